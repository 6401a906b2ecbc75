package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"insightxr/internal/asset"
	"insightxr/internal/auth"
	"insightxr/internal/pipeline"
	"insightxr/internal/storage"
)

// multipartOverhead is allowed on top of max_upload_bytes for form framing.
const multipartOverhead = 1 << 20

type assetResponse struct {
	ID         string      `json:"id"`
	Stage      asset.Stage `json:"stage"`
	ObjectName string      `json:"object_name"`
	PublicURL  string      `json:"public_url"`
	Transcript string      `json:"transcript"`
	Summary    string      `json:"summary"`
	LastError  string      `json:"last_error"`
	UpdatedAt  string      `json:"updated_at"`
	Version    uint64      `json:"version"`
	Warning    string      `json:"warning,omitempty"`
	Stale      bool        `json:"stale,omitempty"`
}

type errorResponse struct {
	Error string         `json:"error"`
	Kind  asset.Kind     `json:"kind,omitempty"`
	Asset *assetResponse `json:"asset,omitempty"`
}

type summaryRequest struct {
	Text string `json:"text"`
}

type renameRequest struct {
	Name string `json:"name"`
}

// ObjectOpener serves objects of the local storage driver.
type ObjectOpener interface {
	Open(bucket, objectName string) (*os.File, string, error)
}

type API struct {
	sessions  *pipeline.Sessions
	verifier  *auth.Verifier
	maxUpload int64
	objects   ObjectOpener
}

func NewAPI(sessions *pipeline.Sessions, verifier *auth.Verifier, maxUpload int64) *API {
	return &API{sessions: sessions, verifier: verifier, maxUpload: maxUpload}
}

// UseObjectOpener enables the /objects route. Intended for setup only.
func (a *API) UseObjectOpener(o ObjectOpener) {
	a.objects = o
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", a.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if a.objects != nil {
		router.GET("/objects/:bucket/*name", a.ServeObject)
	}

	api := router.Group("/api/v1", auth.RequireBearer(a.verifier))
	{
		api.GET("/asset", a.GetAsset)
		api.POST("/asset", a.SubmitAsset)
		api.POST("/asset/transcription", a.RunTranscription)
		api.POST("/asset/summary", a.RunSummarization)
		api.POST("/asset/rename", a.RenameAsset)
	}
}

func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetAsset returns the caller's active asset.
func (a *API) GetAsset(c *gin.Context) {
	o, ok := a.orchestrator(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toAssetResponse(o.Snapshot()))
}

// SubmitAsset accepts a multipart upload in the "file" field.
func (a *API) SubmitAsset(c *gin.Context) {
	o, ok := a.orchestrator(c)
	if !ok {
		return
	}
	if a.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxUpload+multipartOverhead)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.writeError(c, o.Snapshot(), asset.Validation("submit", asset.ErrPayloadTooLarge))
			return
		}
		log.Warn().Err(err).Msg("invalid submit request")
		c.JSON(http.StatusBadRequest, errorResponse{Error: "file is required", Kind: asset.KindValidation})
		return
	}
	f, err := fh.Open()
	if err != nil {
		log.Error().Err(err).Str("file_name", fh.Filename).Msg("open uploaded file")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "cannot read upload"})
		return
	}
	defer f.Close()

	snap, err := o.SubmitAsset(c.Request.Context(), auth.FromGin(c), pipeline.Upload{
		Name:        fh.Filename,
		Size:        fh.Size,
		ContentType: fh.Header.Get("Content-Type"),
		Body:        f,
	})
	if err != nil {
		a.writeError(c, snap, err)
		return
	}
	c.JSON(http.StatusCreated, toAssetResponse(snap))
}

func (a *API) RunTranscription(c *gin.Context) {
	o, ok := a.orchestrator(c)
	if !ok {
		return
	}
	snap, err := o.RunTranscription(c.Request.Context())
	if err != nil {
		a.writeError(c, snap, err)
		return
	}
	c.JSON(http.StatusOK, toAssetResponse(snap))
}

// RunSummarization summarizes the optional "text" field, or the transcript.
func (a *API) RunSummarization(c *gin.Context) {
	o, ok := a.orchestrator(c)
	if !ok {
		return
	}
	var req summaryRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		log.Warn().Err(err).Msg("invalid summary request")
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request", Kind: asset.KindValidation})
		return
	}
	snap, err := o.RunSummarization(c.Request.Context(), req.Text)
	if err != nil {
		a.writeError(c, snap, err)
		return
	}
	c.JSON(http.StatusOK, toAssetResponse(snap))
}

// RenameAsset moves the active object to {name}.mp3.
func (a *API) RenameAsset(c *gin.Context) {
	o, ok := a.orchestrator(c)
	if !ok {
		return
	}
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("invalid rename request")
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request", Kind: asset.KindValidation})
		return
	}
	res, err := o.RenameAsset(c.Request.Context(), auth.FromGin(c), req.Name)
	if err != nil {
		a.writeError(c, res.Asset, err)
		return
	}
	resp := toAssetResponse(res.Asset)
	if res.Warning != nil {
		resp.Warning = res.Warning.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// ServeObject streams an object stored by the local driver.
func (a *API) ServeObject(c *gin.Context) {
	bucket := c.Param("bucket")
	name := strings.TrimPrefix(c.Param("name"), "/")
	f, contentType, err := a.objects.Open(bucket, name)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) || errors.Is(err, storage.ErrInvalidObject) {
			c.JSON(http.StatusNotFound, errorResponse{Error: "object not found"})
			return
		}
		log.Error().Err(err).Str("bucket", bucket).Str("object_name", name).Msg("open object")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "cannot open object"})
		return
	}
	defer f.Close()
	var modTime time.Time
	if info, err := f.Stat(); err == nil {
		modTime = info.ModTime()
	}
	c.Header("Content-Type", contentType)
	http.ServeContent(c.Writer, c.Request, name, modTime, f)
}

func (a *API) orchestrator(c *gin.Context) (*pipeline.Orchestrator, bool) {
	o, err := a.sessions.For(auth.FromGin(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error(), Kind: asset.KindOf(err)})
		return nil, false
	}
	return o, true
}

func (a *API) writeError(c *gin.Context, snap asset.Snapshot, err error) {
	resp := toAssetResponse(snap)
	kind := asset.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case asset.KindStale:
		resp.Stale = true
		c.JSON(http.StatusOK, resp)
		return
	case asset.KindValidation:
		switch {
		case errors.Is(err, asset.ErrUnauthenticated):
			status = http.StatusUnauthorized
		case errors.Is(err, asset.ErrOperationInProgress), errors.Is(err, asset.ErrRenameInProgress):
			status = http.StatusConflict
		default:
			status = http.StatusBadRequest
		}
	case asset.KindRemote:
		status = http.StatusBadGateway
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("unclassified error")
	}
	c.JSON(status, errorResponse{Error: err.Error(), Kind: kind, Asset: &resp})
}

func toAssetResponse(s asset.Snapshot) assetResponse {
	return assetResponse{
		ID:         s.ID,
		Stage:      s.Stage,
		ObjectName: s.ObjectName,
		PublicURL:  s.PublicURL,
		Transcript: s.Transcript,
		Summary:    s.Summary,
		LastError:  s.LastError,
		UpdatedAt:  s.UpdatedAt.UTC().Format(time.RFC3339),
		Version:    s.Version,
	}
}

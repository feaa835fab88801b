package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"corkboard/api/internal/attachments"
	"corkboard/api/internal/board"
	"corkboard/api/internal/config"
	"corkboard/api/internal/export"
	"corkboard/api/internal/identity"
)

type HTTPServer struct {
	service *Service
	auth    tokenAuthenticator
	cfg     config.Config
	logger  *zap.Logger
	limiter *ipLimiter
}

func NewHTTPServer(service *Service, auth tokenAuthenticator, cfg config.Config, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{
		service: service,
		auth:    auth,
		cfg:     cfg,
		logger:  logger,
		limiter: newIPLimiter(cfg.RateLimitPerMinute),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger), corsMiddleware(s.cfg.CORSOrigins))

	r.GET("/api/health", s.handleHealth)
	r.HEAD("/api/health", s.handleHealth)
	r.GET("/api/ready", s.handleReady)

	api := r.Group("/api", s.limiter.middleware(), authenticate(s.auth))
	api.GET("/me", s.handleMe)
	api.GET("/ws/directory", s.serveDirectoryWS)
	api.GET("/ws/boards/:boardID", s.serveBoardWS)

	api.POST("/folders", s.handleCreateFolder)
	api.PATCH("/folders/:folderID", s.handleRenameFolder)
	api.DELETE("/folders/:folderID", s.handleDeleteFolder)

	api.POST("/boards", s.handleCreateBoard)
	boards := api.Group("/boards/:boardID")
	boards.GET("", s.handleGetBoard)
	boards.PATCH("", s.handleUpdateBoard)
	boards.DELETE("", s.handleDeleteBoard)
	boards.PUT("/folder", s.handleMoveBoard)
	boards.POST("/unlock", s.handleUnlockBoard)
	boards.GET("/search", s.handleSearch)
	boards.GET("/export", s.handleExport)
	boards.POST("/approve", s.handleBatchApprove)
	boards.POST("/attachments", s.handleUpload)
	boards.POST("/reindex", s.handleReindex)

	boards.POST("/sections", s.handleCreateSection)
	boards.PUT("/sections/order", s.handleReorderSections)
	boards.PATCH("/sections/:sectionID", s.handleUpdateSection)
	boards.DELETE("/sections/:sectionID", s.handleDeleteSection)

	boards.POST("/posts", s.handleCreatePost)
	boards.PUT("/posts/order", s.handleReorderPosts)
	boards.PATCH("/posts/:postID", s.handleUpdatePost)
	boards.DELETE("/posts/:postID", s.handleDeletePost)
	boards.POST("/posts/:postID/approve", s.handleApprovePost)
	boards.POST("/posts/:postID/vote", s.handleVote)
	boards.GET("/posts/:postID/like", s.handleLiked)
	boards.POST("/posts/:postID/like", s.handleLike)
	boards.DELETE("/posts/:postID/like", s.handleUnlike)
	boards.POST("/posts/:postID/comments", s.handleAddComment)
	boards.POST("/posts/:postID/comments/:commentID/approve", s.handleApproveComment)
	boards.DELETE("/posts/:postID/comments/:commentID", s.handleDeleteComment)

	r.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, CodeNotFound, "Not found", nil)
	})
	return r
}

func (s *HTTPServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *HTTPServer) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.service.Ready(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"checks": gin.H{"store": gin.H{"status": "error", "error": err.Error()}},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"checks": gin.H{"store": gin.H{"status": "ok"}},
	})
}

func (s *HTTPServer) handleMe(c *gin.Context) {
	u, ok := identity.FromContext(c.Request.Context())
	if !ok {
		writeError(c, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
		return
	}
	c.JSON(http.StatusOK, u)
}

// bind decodes the JSON body into target and reports INVALID_INPUT on
// failure. An empty body leaves target untouched.
func bind(c *gin.Context, target any) bool {
	if err := c.ShouldBindJSON(target); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, CodeInvalidInput, "Invalid JSON body", nil)
		return false
	}
	return true
}

func (s *HTTPServer) handleCreateFolder(c *gin.Context) {
	var body struct {
		Name string `json:"name"`
	}
	if !bind(c, &body) {
		return
	}
	f, err := s.service.CreateFolder(c.Request.Context(), body.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

func (s *HTTPServer) handleRenameFolder(c *gin.Context) {
	var body struct {
		Name string `json:"name"`
	}
	if !bind(c, &body) {
		return
	}
	if err := s.service.RenameFolder(c.Request.Context(), c.Param("folderID"), body.Name); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *HTTPServer) handleDeleteFolder(c *gin.Context) {
	if err := s.service.DeleteFolder(c.Request.Context(), c.Param("folderID")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *HTTPServer) handleCreateBoard(c *gin.Context) {
	var body NewBoard
	if !bind(c, &body) {
		return
	}
	b, err := s.service.CreateBoard(c.Request.Context(), body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (s *HTTPServer) handleGetBoard(c *gin.Context) {
	ctx := c.Request.Context()
	view, err := s.service.LoadView(ctx, c.Param("boardID"))
	if err != nil {
		respondError(c, err)
		return
	}
	u, _ := identity.FromContext(ctx)
	c.JSON(http.StatusOK, VisibleTo(view, u.UID))
}

func (s *HTTPServer) handleUpdateBoard(c *gin.Context) {
	var fields map[string]any
	if !bind(c, &fields) {
		return
	}
	if err := s.service.UpdateBoard(c.Request.Context(), c.Param("boardID"), fields); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *HTTPServer) handleDeleteBoard(c *gin.Context) {
	if err := s.service.DeleteBoard(c.Request.Context(), c.Param("boardID")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *HTTPServer) handleMoveBoard(c *gin.Context) {
	var body struct {
		FolderID string `json:"folderId"`
	}
	if !bind(c, &body) {
		return
	}
	if err := s.service.MoveBoardToFolder(c.Request.Context(), c.Param("boardID"), body.FolderID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *HTTPServer) handleUnlockBoard(c *gin.Context) {
	var body struct {
		Password string `json:"password"`
	}
	if !bind(c, &body) {
		return
	}
	if err := s.service.UnlockBoard(c.Request.Context(), c.Param("boardID"), body.Password); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *HTTPServer) handleSearch(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	resp, err := s.service.Search(c.Request.Context(), c.Param("boardID"), c.Query("q"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) handleExport(c *gin.Context) {
	format := export.Format(c.DefaultQuery("format", string(export.FormatPDF)))
	res, err := s.service.Export(c.Request.Context(), c.Param("boardID"), format)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	c.Data(http.StatusOK, res.MimeType, res.Data)
}

func (s *HTTPServer) handleBatchApprove(c *gin.Context) {
	if err := s.service.BatchApproveBoard(c.Request.Context(), c.Param("boardID")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *HTTPServer) handleUpload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		writeError(c, http.StatusBadRequest, CodeInvalidInput, "file is required", nil)
		return
	}
	file, err := header.Open()
	if err != nil {
		writeError(c, http.StatusBadRequest, CodeInvalidInput, "file is unreadable", nil)
		return
	}
	defer file.Close()

	a, err := s.service.UploadAttachment(c.Request.Context(), c.Param("boardID"), attachments.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (s *HTTPServer) handleReindex(c *gin.Context) {
	if err := s.service.ReindexBoard(c.Request.Context(), c.Param("boardID")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *HTTPServer) handleCreateSection(c *gin.Context) {
	var body NewSection
	if !bind(c, &body) {
		return
	}
	sec, err := s.service.CreateSection(c.Request.Context(), c.Param("boardID"), body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sec)
}

func (s *HTTPServer) handleReorderSections(c *gin.Context) {
	var body struct {
		IDs []string `json:"ids"`
	}
	if !bind(c, &body) {
		return
	}
	if err := s.service.ReorderSections(c.Request.Context(), c.Param("boardID"), body.IDs); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *HTTPServer) handleUpdateSection(c *gin.Context) {
	var body struct {
		Title *string `json:"title"`
		Color *string `json:"color"`
	}
	if !bind(c, &body) {
		return
	}
	if err := s.service.UpdateSection(c.Request.Context(), c.Param("boardID"), c.Param("sectionID"), body.Title, body.Color); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *HTTPServer) handleDeleteSection(c *gin.Context) {
	if err := s.service.DeleteSection(c.Request.Context(), c.Param("boardID"), c.Param("sectionID")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *HTTPServer) handleCreatePost(c *gin.Context) {
	var body NewPost
	if !bind(c, &body) {
		return
	}
	ctx := c.Request.Context()
	view, err := s.service.LoadView(ctx, c.Param("boardID"))
	if err != nil {
		respondError(c, err)
		return
	}
	p, err := s.service.CreatePost(ctx, view, body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *HTTPServer) handleReorderPosts(c *gin.Context) {
	var body struct {
		SectionID string   `json:"sectionId"`
		IDs       []string `json:"ids"`
	}
	if !bind(c, &body) {
		return
	}
	if err := s.service.ReorderPosts(c.Request.Context(), c.Param("boardID"), body.SectionID, body.IDs); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *HTTPServer) handleUpdatePost(c *gin.Context) {
	var body PostPatch
	if !bind(c, &body) {
		return
	}
	if err := s.service.UpdatePost(c.Request.Context(), c.Param("boardID"), c.Param("postID"), body); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *HTTPServer) handleDeletePost(c *gin.Context) {
	ctx := c.Request.Context()
	var err error
	if c.Query("attachments") == "keep" {
		err = s.service.DeletePost(ctx, c.Param("boardID"), c.Param("postID"))
	} else {
		err = s.service.DeletePostWithAttachments(ctx, c.Param("boardID"), c.Param("postID"))
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *HTTPServer) handleApprovePost(c *gin.Context) {
	if err := s.service.ApprovePost(c.Request.Context(), c.Param("boardID"), c.Param("postID")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// voterID is the signed-in user, or the device for guests.
func voterID(c *gin.Context) string {
	if u, ok := identity.FromContext(c.Request.Context()); ok {
		return u.UID
	}
	return c.GetHeader(headerDeviceID)
}

func (s *HTTPServer) handleVote(c *gin.Context) {
	var body struct {
		OptionID string `json:"optionId"`
	}
	if !bind(c, &body) {
		return
	}
	poll, err := s.service.Vote(c.Request.Context(), c.Param("boardID"), c.Param("postID"), body.OptionID, voterID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, poll)
}

func (s *HTTPServer) handleLiked(c *gin.Context) {
	liked, err := s.service.Liked(c.Request.Context(), c.Param("boardID"), c.Param("postID"), c.GetHeader(headerDeviceID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"liked": liked})
}

func (s *HTTPServer) handleLike(c *gin.Context) {
	counted, err := s.service.Like(c.Request.Context(), c.Param("boardID"), c.Param("postID"), c.GetHeader(headerDeviceID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counted": counted})
}

func (s *HTTPServer) handleUnlike(c *gin.Context) {
	counted, err := s.service.Unlike(c.Request.Context(), c.Param("boardID"), c.Param("postID"), c.GetHeader(headerDeviceID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counted": counted})
}

func (s *HTTPServer) handleAddComment(c *gin.Context) {
	var body struct {
		Content   string `json:"content"`
		GuestName string `json:"guestName"`
	}
	if !bind(c, &body) {
		return
	}
	comment, err := s.service.AddComment(c.Request.Context(), c.Param("boardID"), c.Param("postID"), body.Content, body.GuestName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (s *HTTPServer) handleApproveComment(c *gin.Context) {
	if err := s.service.ApproveComment(c.Request.Context(), c.Param("boardID"), c.Param("postID"), c.Param("commentID")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *HTTPServer) handleDeleteComment(c *gin.Context) {
	if err := s.service.DeleteComment(c.Request.Context(), c.Param("boardID"), c.Param("postID"), c.Param("commentID")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// VisibleTo strips what uid may not see from a view: the password hash,
// and pending posts and comments unless uid owns the board or wrote them.
func VisibleTo(view board.View, uid string) board.View {
	view.Board = view.Board.Redacted()
	if uid != "" && uid == view.Board.OwnerID {
		return view
	}
	visible := func(status board.Status, author string) bool {
		return status != board.StatusPending || (uid != "" && author == uid)
	}
	filter := func(posts []board.Post) []board.Post {
		out := make([]board.Post, 0, len(posts))
		for _, p := range posts {
			if !visible(p.Status, p.Author.UID) {
				continue
			}
			if p.HasPendingComments() {
				comments := make([]board.Comment, 0, len(p.Comments))
				for _, cm := range p.Comments {
					if visible(cm.Status, cm.Author.UID) {
						comments = append(comments, cm)
					}
				}
				p.Comments = comments
			}
			out = append(out, p)
		}
		return out
	}
	view.Posts = filter(view.Posts)
	buckets := make(map[string][]board.Post, len(view.PostsBySection))
	for id, posts := range view.PostsBySection {
		buckets[id] = filter(posts)
	}
	view.PostsBySection = buckets
	return view
}

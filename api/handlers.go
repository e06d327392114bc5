package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/opd-ai/meshgate/archive"
	"github.com/opd-ai/meshgate/file"
	"github.com/opd-ai/meshgate/limits"
	"github.com/opd-ai/meshgate/transport"
)

type sendMessageRequest struct {
	Text        string `json:"text"`
	Destination string `json:"destination"`
}

func (s *Server) getMessages(c *gin.Context) {
	sinceID, err := strconv.ParseUint(c.DefaultQuery("since_id", "0"), 10, 64)
	if err != nil {
		sinceID = 0
	}
	c.JSON(http.StatusOK, s.deps.Messages.Store().GetAll(sinceID))
}

func (s *Server) postMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Missing 'text' field")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		abortWithError(c, http.StatusBadRequest, "'text' must not be empty")
		return
	}

	msg, err := s.deps.Messages.SendText(text, transport.ParseNodeAddr(req.Destination))
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, msg)
	case errors.Is(err, limits.ErrMessageTooLarge):
		abortWithError(c, http.StatusBadRequest, err.Error())
	default:
		_ = c.Error(err)
		abortWithError(c, http.StatusServiceUnavailable, err.Error())
	}
}

func (s *Server) getNodes(c *gin.Context) {
	nodes := []transport.NodeInfo{}
	if dir, ok := s.deps.Link.(transport.NodeDirectory); ok {
		nodes = append(nodes, dir.Nodes()...)
	}
	c.JSON(http.StatusOK, nodes)
}

func (s *Server) getLocalNode(c *gin.Context) {
	if s.deps.Link == nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": s.deps.Link.LocalAddr().String()})
}

func (s *Server) sendFile(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "No file part in request")
		return
	}
	if header.Filename == "" {
		abortWithError(c, http.StatusBadRequest, "No file selected")
		return
	}
	if header.Size > limits.MaxFileSize {
		abortWithError(c, http.StatusBadRequest,
			fmt.Sprintf("file too large: %d bytes (max %d)", header.Size, limits.MaxFileSize))
		return
	}

	f, err := header.Open()
	if err != nil {
		_ = c.Error(err)
		abortWithError(c, http.StatusBadRequest, "Could not read upload")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limits.MaxFileSize+1))
	if err != nil {
		_ = c.Error(err)
		abortWithError(c, http.StatusBadRequest, "Could not read upload")
		return
	}

	destination := transport.ParseNodeAddr(c.PostForm("destination"))
	id, err := s.deps.Files.SendFile(data, header.Filename, destination)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"transfer_id": id})
	case errors.Is(err, limits.ErrFileTooLarge):
		abortWithError(c, http.StatusBadRequest, err.Error())
	default:
		_ = c.Error(err)
		abortWithError(c, http.StatusServiceUnavailable, err.Error())
	}
}

// transferID parses the :id path parameter, aborting with 400 on failure.
func transferID(c *gin.Context) (uint32, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid transfer id")
		return 0, false
	}
	return uint32(id), true
}

func (s *Server) getProgress(c *gin.Context) {
	id, ok := transferID(c)
	if !ok {
		return
	}
	snap, found := s.deps.Files.GetStatus(id)
	if !found {
		abortWithError(c, http.StatusNotFound, "Transfer not found")
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) listReceived(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Files.ListCompleted(file.DirectionRx))
}

func sendAttachment(c *gin.Context, id uint32, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="transfer_%d.bin"`, id))
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (s *Server) download(c *gin.Context) {
	id, ok := transferID(c)
	if !ok {
		return
	}
	if data, found := s.deps.Files.GetCompletedData(id); found {
		sendAttachment(c, id, data)
		return
	}
	if s.deps.Archive != nil {
		if data, err := s.deps.Archive.Get(id); err == nil {
			sendAttachment(c, id, data)
			return
		}
	}
	abortWithError(c, http.StatusNotFound, "Transfer not found or not yet complete")
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"transfers": s.deps.Files.Registry().Stats(),
		"drops":     s.deps.Files.DropStats(),
	})
}

func (s *Server) cancelTransfer(c *gin.Context) {
	id, ok := transferID(c)
	if !ok {
		return
	}
	err := s.deps.Files.Cancel(id)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"transfer_id": id})
	case errors.Is(err, file.ErrTransferNotFound):
		abortWithError(c, http.StatusNotFound, "Transfer not found")
	case errors.Is(err, file.ErrTransferFinished):
		abortWithError(c, http.StatusConflict, err.Error())
	default:
		_ = c.Error(err)
		abortWithError(c, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) listArchive(c *gin.Context) {
	if s.deps.Archive == nil {
		abortWithError(c, http.StatusNotFound, "archive disabled")
		return
	}
	entries, err := s.deps.Archive.List()
	if err != nil {
		_ = c.Error(err)
		abortWithError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) downloadArchived(c *gin.Context) {
	if s.deps.Archive == nil {
		abortWithError(c, http.StatusNotFound, "archive disabled")
		return
	}
	id, ok := transferID(c)
	if !ok {
		return
	}
	data, err := s.deps.Archive.Get(id)
	switch {
	case err == nil:
		sendAttachment(c, id, data)
	case errors.Is(err, archive.ErrNotFound):
		abortWithError(c, http.StatusNotFound, "Transfer not archived")
	default:
		_ = c.Error(err)
		abortWithError(c, http.StatusInternalServerError, err.Error())
	}
}

package handler

import (
	"log/slog"

	"github.com/notesgen/notesgen-be/internal/bulk"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Engine  *bulk.Engine
	Gateway *bulk.Gateway
}

// BulkHandler handles bulk notes generation HTTP requests
type BulkHandler struct {
	logger  *slog.Logger
	engine  *bulk.Engine
	gateway *bulk.Gateway
}

// NewBulkHandler creates a new BulkHandler instance
func NewBulkHandler(deps *Dependencies) *BulkHandler {
	return &BulkHandler{
		logger:  deps.Logger,
		engine:  deps.Engine,
		gateway: deps.Gateway,
	}
}

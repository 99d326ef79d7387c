package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"localmind/internal/config"
	apperrors "localmind/internal/errors"
	"localmind/internal/logging"
)

const probeTimeout = 5 * time.Second

// Connect returns the configured vector store. In persistent mode it
// probes the Qdrant server first; a connection-class probe failure
// degrades to the embedded store, any other failure is fatal. With
// persistence disabled the embedded store is used directly.
func Connect(ctx context.Context, cfg *config.Config, logger logging.Logger) (VectorStore, error) {
	if !cfg.Storage.UsePersistent {
		logger.Info("Using embedded vector store")
		return NewEmbeddedStore(logger), nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	qs, err := NewQdrantStore(probeCtx, &cfg.Qdrant, logger)
	if err == nil {
		return qs, nil
	}

	if isConnectionError(err) {
		logger.Warn("Qdrant server not available, falling back to embedded store",
			"host", cfg.Qdrant.Host, "port", cfg.Qdrant.Port, "error", err.Error())
		return NewEmbeddedStore(logger), nil
	}

	return nil, apperrors.StorageUnavailable("vector store initialization failed", err)
}

// isConnectionError classifies probe failures that warrant degrading to
// the embedded store, as opposed to misconfiguration that should fail
// startup outright.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Classify by the underlying cause: the wrapper's own code text
	// (STORAGE_UNAVAILABLE) would otherwise match every failure.
	msg := err.Error()
	var coreErr *apperrors.CoreError
	if errors.As(err, &coreErr) {
		msg = coreErr.Message
		if coreErr.Cause != nil {
			msg = coreErr.Cause.Error()
		}
	}
	msg = strings.ToLower(msg)
	for _, needle := range []string{"connection", "refused", "timeout", "deadline exceeded", "unreachable", "no such host", "unavailable"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

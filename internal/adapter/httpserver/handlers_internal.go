package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	redisadapter "github.com/pscheid92/topicrelay/internal/adapter/redis"
	apperrors "github.com/pscheid92/topicrelay/internal/platform/errors"
	"golang.org/x/sync/errgroup"
)

const (
	stateTimeout     = 5 * time.Second
	stateConcurrency = 16
)

type topicState struct {
	Topic           string `json:"topic"`
	SubscriberCount int64  `json:"subscriberCount"`
}

type wsStateResponse struct {
	ActiveTopics     int                     `json:"activeTopics"`
	Topics           []topicState            `json:"topics"`
	TotalSubscribers int64                   `json:"totalSubscribers"`
	LocalConnections int                     `json:"localConnections"`
	Nodes            []redisadapter.NodeInfo `json:"nodes"`
}

// handleWSState reports the cluster-wide topic index plus this node's socket
// count. Concurrent callers share one in-flight computation.
func (s *Server) handleWSState(c echo.Context) error {
	ctx := c.Request().Context()

	v, err, _ := s.stateGroup.Do("ws-state", func() (any, error) {
		stateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stateTimeout)
		defer cancel()
		return s.collectState(stateCtx)
	})
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, v); err != nil {
		return fmt.Errorf("failed to write ws-state response: %w", err)
	}
	return nil
}

func (s *Server) collectState(ctx context.Context) (*wsStateResponse, error) {
	names, err := s.manager.TopicNames(ctx)
	if err != nil {
		return nil, err
	}

	resp := &wsStateResponse{
		ActiveTopics:     len(names),
		Topics:           make([]topicState, len(names)),
		LocalConnections: s.manager.ConnectionCount(),
		Nodes:            []redisadapter.NodeInfo{},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(stateConcurrency)

	for i, name := range names {
		g.Go(func() error {
			count, err := s.manager.TopicSubscriberCount(gctx, name)
			if err != nil {
				return err
			}
			resp.Topics[i] = topicState{Topic: name, SubscriberCount: count}
			return nil
		})
	}

	if s.nodes != nil {
		g.Go(func() error {
			nodes, err := s.nodes.ActiveNodes(gctx)
			if err != nil {
				return apperrors.StoreError("failed to list nodes", err)
			}
			resp.Nodes = nodes
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, t := range resp.Topics {
		resp.TotalSubscribers += t.SubscriberCount
	}
	return resp, nil
}

type publishRequest struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

type publishResponse struct {
	Receivers int64 `json:"receivers"`
}

func (s *Server) handlePublish(c echo.Context) error {
	var req publishRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return apperrors.ValidationError("request body must be a JSON object")
	}
	if req.Topic == "" {
		return apperrors.ValidationError("topic is required")
	}
	if len(req.Payload) == 0 {
		return apperrors.ValidationError("payload is required")
	}

	receivers, err := s.manager.Publish(c.Request().Context(), req.Topic, req.Payload)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, publishResponse{Receivers: receivers}); err != nil {
		return fmt.Errorf("failed to write publish response: %w", err)
	}
	return nil
}

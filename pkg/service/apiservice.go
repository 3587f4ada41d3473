// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/srt-abr/pkg/telemetry/prometheus"
)

const (
	cStreamsPath   = "/streams"
	cStreamPath    = "/streams/{id}"
	cReferencePath = "/streams/{id}/reference"
	cPausePath     = "/streams/{id}/pause"
	cResumePath    = "/streams/{id}/resume"
)

// StreamAPI is what the HTTP API needs from the stream manager.
type StreamAPI interface {
	ListStreams(ctx context.Context) ([]*StreamState, error)
	GetStream(ctx context.Context, id string) (*StreamState, error)
	SetReferenceBitrate(ctx context.Context, id string, bps int64) (*StreamState, error)
	PauseStream(ctx context.Context, id string) (*StreamState, error)
	ResumeStream(ctx context.Context, id string) (*StreamState, error)
}

type ListStreamsResponse struct {
	Streams []*StreamState `json:"streams"`
}

type SetReferenceBitrateRequest struct {
	Bitrate int64 `json:"bitrate"`
}

type APIService struct {
	streams StreamAPI
	nodeID  string
}

func NewAPIService(streams StreamAPI, nodeID string) *APIService {
	return &APIService{
		streams: streams,
		nodeID:  nodeID,
	}
}

func (s *APIService) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+cStreamsPath, s.handleList)
	mux.HandleFunc("GET "+cStreamPath, s.handleGet)
	mux.HandleFunc("POST "+cReferencePath, s.handleSetReference)
	mux.HandleFunc("POST "+cPausePath, s.handlePause)
	mux.HandleFunc("POST "+cResumePath, s.handleResume)
}

// handleList returns every known stream, ?local=1 restricts it to streams of this node.
func (s *APIService) handleList(w http.ResponseWriter, r *http.Request) {
	states, err := s.streams.ListStreams(r.Context())
	prometheus.RecordServiceOperation("list_streams", err)
	if err != nil {
		handleError(w, r, http.StatusInternalServerError, err)
		return
	}

	if boolValue(r.URL.Query().Get("local")) {
		local := states[:0]
		for _, st := range states {
			if st.NodeID == s.nodeID {
				local = append(local, st)
			}
		}
		states = local
	}

	writeJSON(w, http.StatusOK, &ListStreamsResponse{Streams: states})
}

func (s *APIService) handleGet(w http.ResponseWriter, r *http.Request) {
	state, err := s.streams.GetStream(r.Context(), r.PathValue("id"))
	prometheus.RecordServiceOperation("get_stream", err)
	if err != nil {
		handleError(w, r, errorStatus(err), err, "streamID", r.PathValue("id"))
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *APIService) handleSetReference(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req SetReferenceBitrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleError(w, r, http.StatusBadRequest, ErrInvalidRequest, "streamID", id, "error", err)
		return
	}

	state, err := s.streams.SetReferenceBitrate(r.Context(), id, req.Bitrate)
	prometheus.RecordServiceOperation("set_reference_bitrate", err)
	if err != nil {
		handleError(w, r, errorStatus(err), err, "streamID", id, "bitrate", req.Bitrate)
		return
	}

	logger.Infow("reference bitrate updated by API",
		"streamID", id,
		"bitrate", req.Bitrate,
		"clientIP", GetClientIP(r),
	)
	writeJSON(w, http.StatusOK, state)
}

func (s *APIService) handlePause(w http.ResponseWriter, r *http.Request) {
	s.handleToggle(w, r, "pause_stream", s.streams.PauseStream)
}

func (s *APIService) handleResume(w http.ResponseWriter, r *http.Request) {
	s.handleToggle(w, r, "resume_stream", s.streams.ResumeStream)
}

func (s *APIService) handleToggle(
	w http.ResponseWriter,
	r *http.Request,
	operation string,
	fn func(ctx context.Context, id string) (*StreamState, error),
) {
	id := r.PathValue("id")
	state, err := fn(r.Context(), id)
	prometheus.RecordServiceOperation(operation, err)
	if err != nil {
		handleError(w, r, errorStatus(err), err, "streamID", id)
		return
	}

	logger.Infow("stream adaptation toggled by API", "streamID", id, "operation", operation, "clientIP", GetClientIP(r))
	writeJSON(w, http.StatusOK, state)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrStreamNotFound), errors.Is(err, ErrStreamNotLocal):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidBitrate), errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var _ StreamAPI = (*StreamManager)(nil)

// Copyright 2024 The daosync Authors
// This file is part of the daosync library.
//
// The daosync library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The daosync library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the daosync library. If not, see <http://www.gnu.org/licenses/>.

// Package api serves the read-only projection over HTTP. Every response
// carries the currently executed block so clients can judge staleness.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/genesis-dao/daosync/cache"
	"github.com/genesis-dao/daosync/log"
	"github.com/genesis-dao/daosync/storage"
)

// Reader is the projection read surface the API exposes.
type Reader interface {
	ListDaos() ([]*storage.Dao, error)
	DaoByID(id string) (*storage.Dao, error)
	ListProposals(daoID string) ([]*storage.Proposal, error)
	ProposalByID(id string) (*storage.Proposal, error)
}

// CurrentBlockReader supplies the staleness headers.
type CurrentBlockReader interface {
	CurrentBlock() (*cache.CurrentBlock, error)
}

// Server is the HTTP frontend.
type Server struct {
	reader  Reader
	current CurrentBlockReader
	logger  log.Logger
	hs      *http.Server
}

func NewServer(addr string, reader Reader, current CurrentBlockReader) *Server {
	s := &Server{
		reader:  reader,
		current: current,
		logger:  log.NewModuleLogger(log.API),
	}

	router := httprouter.New()
	router.GET("/health", s.health)
	router.GET("/daos", s.listDaos)
	router.GET("/daos/:id", s.getDao)
	router.GET("/daos/:id/proposals", s.listProposals)
	router.GET("/proposals/:id", s.getProposal)
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	handler := cors.AllowAll().Handler(s.blockHeaders(router))
	s.hs = &http.Server{Addr: addr, Handler: handler}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP API listening", "addr", s.hs.Addr)
	return s.hs.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.hs.Shutdown(ctx)
}

// blockHeaders stamps Block-Number and Block-Hash on every response. A
// cache fault degrades to headerless responses rather than failing reads.
func (s *Server) blockHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.current != nil {
			block, err := s.current.CurrentBlock()
			if err != nil {
				s.logger.Warn("Cannot read current block", "err", err)
			} else if block != nil {
				w.Header().Set("Block-Number", strconv.FormatInt(block.Number, 10))
				w.Header().Set("Block-Hash", block.Hash)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) listDaos(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	daos, err := s.reader.ListDaos()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, daos)
}

func (s *Server) getDao(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	dao, err := s.reader.DaoByID(ps.ByName("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if dao == nil {
		writeError(w, http.StatusNotFound, "dao not found")
		return
	}
	writeJSON(w, http.StatusOK, dao)
}

func (s *Server) listProposals(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	proposals, err := s.reader.ListProposals(ps.ByName("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposals)
}

func (s *Server) getProposal(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	proposal, err := s.reader.ProposalByID(ps.ByName("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if proposal == nil {
		writeError(w, http.StatusNotFound, "proposal not found")
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.logger.Error("Request failed", "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.NewModuleLogger(log.API).Warn("Cannot encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

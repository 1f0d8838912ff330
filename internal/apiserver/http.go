// Package apiserver is the HTTP facade over cluster state used by operators
// and tooling that cannot speak the QUIC transport.
package apiserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MichaAI/multidustry/internal/kv"
)

// maxValueBytes caps request bodies for POST /v1/kv/set.
const maxValueBytes = 1 << 20

// Server serves the HTTP API backed by a Store, usually a kvsvc client.
type Server struct {
	cfg   *viper.Viper
	store kv.Store
	log   *zap.Logger
}

func New(cfg *viper.Viper, store kv.Store, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{cfg: cfg, store: store, log: log.Named("api")}
}

type okRes struct {
	OK bool `json:"ok"`
}

type getRes struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type listRes struct {
	Keys []string `json:"keys"`
}

type errRes struct {
	Error string `json:"error"`
}

// Router returns an http.Handler with registered routes.
func (s *Server) Router() http.Handler {
	r := httprouter.New()
	r.GET("/ping", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		_, _ = w.Write([]byte("pong"))
	})
	r.GET("/healthz", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		_, _ = w.Write([]byte("ok"))
	})
	r.GET("/v1/kv/get", s.auth(s.handleGet))
	r.GET("/v1/kv/set", s.auth(s.handleSet))
	r.POST("/v1/kv/set", s.auth(s.handleSet))
	r.GET("/v1/kv/list", s.auth(s.handleList))
	r.GET("/v1/get/worlds", s.auth(s.handleWorlds))
	r.DELETE("/v1/kv/*key", s.auth(s.handleDelete))
	r.PanicHandler = func(w http.ResponseWriter, req *http.Request, v any) {
		s.log.Error("handler panic", zap.String("path", req.URL.Path), zap.Any("panic", v))
		writeJSON(w, http.StatusInternalServerError, errRes{Error: "internal error"})
	}
	return r
}

// auth enforces api.token when one is configured.
func (s *Server) auth(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		tok := strings.TrimSpace(s.cfg.GetString("api.token"))
		if tok == "" {
			next(w, r, ps)
			return
		}
		got := r.Header.Get("Authorization")
		if !strings.HasPrefix(got, "Bearer ") || strings.TrimSpace(strings.TrimPrefix(got, "Bearer ")) != tok {
			writeJSON(w, http.StatusUnauthorized, errRes{Error: "unauthorized"})
			return
		}
		next(w, r, ps)
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errRes{Error: "key is required"})
		return
	}
	v, err := s.store.Get(r.Context(), key)
	if errors.Is(err, kv.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errRes{Error: "not found"})
		return
	}
	if err != nil {
		s.fail(w, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, getRes{Key: key, Value: string(v)})
}

// handleSet takes the value from ?value= or, for POST without it, the body.
func (s *Server) handleSet(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	key := q.Get("key")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errRes{Error: "key is required"})
		return
	}
	value := []byte(q.Get("value"))
	if r.Method == http.MethodPost && !q.Has("value") {
		b, err := io.ReadAll(io.LimitReader(r.Body, maxValueBytes+1))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errRes{Error: "failed to read body"})
			return
		}
		if len(b) > maxValueBytes {
			writeJSON(w, http.StatusRequestEntityTooLarge, errRes{Error: "value too large"})
			return
		}
		value = b
	}
	if err := s.store.Put(r.Context(), key, value); err != nil {
		s.fail(w, "set", err)
		return
	}
	s.log.Debug("kv set", zap.String("key", key), zap.Int("bytes", len(value)))
	writeJSON(w, http.StatusOK, okRes{OK: true})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	keys, err := s.store.List(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		s.fail(w, "list", err)
		return
	}
	writeJSON(w, http.StatusOK, listRes{Keys: keys})
}

// handleDelete serves DELETE /v1/kv/<key>; the key may contain slashes.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := strings.TrimPrefix(ps.ByName("key"), "/")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errRes{Error: "key is required"})
		return
	}
	if err := s.store.Delete(r.Context(), key); err != nil {
		s.fail(w, "delete", err)
		return
	}
	writeJSON(w, http.StatusOK, okRes{OK: true})
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, kv.ErrInvalidKey) || strings.Contains(err.Error(), kv.ErrInvalidKey.Error()) {
		status = http.StatusBadRequest
	}
	s.log.Warn("kv request failed", zap.String("op", op), zap.Error(err))
	writeJSON(w, status, errRes{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package httpapi

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/forgecrate/registry/pkg/registry"
	"github.com/forgecrate/registry/pkg/registryerrors"
)

// handlePublish implements PUT /api/v1/crates/new (spec.md §4.5):
// parses the length-prefixed publish frame and delegates to
// registry.Service.Publish.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	meta, tarball, err := readPublishFrame(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}

	warnings, err := s.registry.Publish(r.Context(), callerFrom(r.Context()), meta, tarball)
	observe("publish", start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	if warnings.InvalidCategories == nil {
		warnings.InvalidCategories = []string{}
	}
	if warnings.InvalidBadges == nil {
		warnings.InvalidBadges = []string{}
	}
	if warnings.Other == nil {
		warnings.Other = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]registry.Warnings{"warnings": warnings})
}

// readPublishFrame decodes spec.md §4.5's publish body: a 4-byte
// little-endian metadata length, the metadata JSON, a 4-byte
// little-endian tarball length, and the tarball bytes.
func readPublishFrame(body io.Reader) (registry.PublishMetadata, []byte, error) {
	var metaLen uint32
	if err := binary.Read(body, binary.LittleEndian, &metaLen); err != nil {
		return registry.PublishMetadata{}, nil, registryerrors.Wrap(registryerrors.BadRequest, "read metadata length", err)
	}
	metaBytes := make([]byte, metaLen)
	if _, err := io.ReadFull(body, metaBytes); err != nil {
		return registry.PublishMetadata{}, nil, registryerrors.Wrap(registryerrors.BadRequest, "read metadata", err)
	}
	var meta registry.PublishMetadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return registry.PublishMetadata{}, nil, registryerrors.Wrap(registryerrors.InvalidMetadata, "decode metadata JSON", err)
	}

	var tarballLen uint32
	if err := binary.Read(body, binary.LittleEndian, &tarballLen); err != nil {
		return registry.PublishMetadata{}, nil, registryerrors.Wrap(registryerrors.BadRequest, "read tarball length", err)
	}
	tarball := make([]byte, tarballLen)
	if _, err := io.ReadFull(body, tarball); err != nil {
		return registry.PublishMetadata{}, nil, registryerrors.Wrap(registryerrors.BadRequest, "read tarball", err)
	}
	return meta, tarball, nil
}

func (s *Server) handleYank(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vars := mux.Vars(r)
	err := s.registry.Yank(r.Context(), callerFrom(r.Context()), vars["name"], vars["vers"])
	observe("yank", start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleUnyank(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vars := mux.Vars(r)
	err := s.registry.Unyank(r.Context(), callerFrom(r.Context()), vars["name"], vars["vers"])
	observe("unyank", start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ownerWire matches spec.md §6's owners-list response shape, which
// carries a "name" field this registry never populates.
type ownerWire struct {
	ID    int64   `json:"id"`
	Login string  `json:"login"`
	Name  *string `json:"name"`
}

func (s *Server) handleOwnersList(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	owners, err := s.registry.ListOwners(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	wire := make([]ownerWire, 0, len(owners))
	for _, o := range owners {
		wire = append(wire, ownerWire{ID: o.ID, Login: o.Login})
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": wire})
}

type ownersRequest struct {
	Users []string `json:"users"`
}

func (s *Server) handleOwnersAdd(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req ownersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, registryerrors.Wrap(registryerrors.BadRequest, "decode owners request", err))
		return
	}
	if err := s.registry.AddOwners(r.Context(), callerFrom(r.Context()), name, req.Users); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "msg": "owners added"})
}

func (s *Server) handleOwnersRemove(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req ownersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, registryerrors.Wrap(registryerrors.BadRequest, "decode owners request", err))
		return
	}
	if err := s.registry.RemoveOwners(r.Context(), callerFrom(r.Context()), name, req.Users); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query().Get("q")
	limit := 0
	if raw := r.URL.Query().Get("per_page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	results, total, err := s.registry.Search(r.Context(), q, limit)
	observe("search", start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"crates": results,
		"meta":   map[string]int{"total": total},
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vars := mux.Vars(r)
	name, vers := vars["name"], vars["vers"]

	data, err := s.registry.Download(name, vers)
	if registryerrors.Is(err, registryerrors.NotFound) && s.mirror != nil {
		data, err = s.mirror.Get(r.Context(), name, vers)
	}
	observe("download", start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleEntry implements SPEC_FULL.md §6's supplemental single-version
// lookup endpoint.
func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	entry, err := s.registry.Entry(vars["name"], vars["vers"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type newUserRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleNewUser(w http.ResponseWriter, r *http.Request) {
	login := mux.Vars(r)["login"]
	var req newUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, registryerrors.Wrap(registryerrors.BadRequest, "decode new_user request", err))
		return
	}
	_, token, err := s.auth.NewUser(r.Context(), login, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type loginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	login := mux.Vars(r)["login"]
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, registryerrors.Wrap(registryerrors.BadRequest, "decode login request", err))
		return
	}
	_, token, err := s.auth.Login(r.Context(), login, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	login := mux.Vars(r)["login"]
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, registryerrors.Wrap(registryerrors.BadRequest, "decode change_password request", err))
		return
	}
	_, token, err := s.auth.ChangePassword(r.Context(), login, req.OldPassword, req.NewPassword)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

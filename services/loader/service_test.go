// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/enzygraph/enzygraph/services/atlas/protein"
	"github.com/enzygraph/enzygraph/services/atlas/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	svc, err := NewService(ServiceConfig{BatchSize: 2, Workers: 2}, st, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, st
}

func TestNewService_NilStore(t *testing.T) {
	if _, err := NewService(DefaultServiceConfig(), nil, nil); !errors.Is(err, ErrNilStore) {
		t.Errorf("expected ErrNilStore, got %v", err)
	}
}

func TestService_Load(t *testing.T) {
	svc, st := newTestService(t)

	result, err := svc.Load(context.Background(), strings.NewReader(sampleTSV))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if result.Rows != 3 || result.Skipped != 1 || result.Inserted != 2 {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.Report == nil || result.Report.Failed != 0 {
		t.Errorf("expected a clean batch report, got %+v", result.Report)
	}

	count, err := st.CountProteins(context.Background())
	if err != nil {
		t.Fatalf("CountProteins: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 stored proteins, got %d", count)
	}

	p, err := st.GetProtein(context.Background(), "P12345")
	if err != nil {
		t.Fatalf("GetProtein: %v", err)
	}
	if len(p.Domains) != 2 {
		t.Errorf("expected 2 domains on P12345, got %v", p.Domains)
	}
}

func TestService_Load_Idempotent(t *testing.T) {
	svc, st := newTestService(t)

	for i := 0; i < 2; i++ {
		if _, err := svc.Load(context.Background(), strings.NewReader(sampleTSV)); err != nil {
			t.Fatalf("Load pass %d: %v", i+1, err)
		}
	}

	count, err := st.CountProteins(context.Background())
	if err != nil {
		t.Fatalf("CountProteins: %v", err)
	}
	if count != 2 {
		t.Errorf("re-loading the same file must upsert, got %d proteins", count)
	}
}

func TestService_Load_AfterLoadHook(t *testing.T) {
	svc, _ := newTestService(t)

	var got int
	svc.WithAfterLoad(func(ctx context.Context, proteins []*protein.Protein) error {
		got = len(proteins)
		return nil
	})

	if _, err := svc.Load(context.Background(), strings.NewReader(sampleTSV)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != 2 {
		t.Errorf("expected hook to see 2 proteins, got %d", got)
	}
}

func TestService_Load_HookFailureIsNotFatal(t *testing.T) {
	svc, _ := newTestService(t)
	svc.WithAfterLoad(func(ctx context.Context, proteins []*protein.Protein) error {
		return errors.New("mirror down")
	})

	if _, err := svc.Load(context.Background(), strings.NewReader(sampleTSV)); err != nil {
		t.Fatalf("expected hook failure to be swallowed, got %v", err)
	}
}

func TestService_Load_InvalidInput(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Load(context.Background(), strings.NewReader("")); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
}

func setupLoaderRouter(svc *Service) *gin.Engine {
	router := gin.New()
	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(svc))
	return router
}

func TestHandlers_HandleLoadBody(t *testing.T) {
	svc, _ := newTestService(t)
	router := setupLoaderRouter(svc)

	req, _ := http.NewRequest("POST", "/v1/load", bytes.NewBufferString(sampleTSV))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp LoadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Inserted != 2 || resp.Skipped != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.RunID == "" {
		t.Error("expected a run id")
	}
}

func TestHandlers_HandleLoadBody_InvalidTSV(t *testing.T) {
	svc, _ := newTestService(t)
	router := setupLoaderRouter(svc)

	req, _ := http.NewRequest("POST", "/v1/load", bytes.NewBufferString("Accession\nP1\n"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Code != "INVALID_TSV" {
		t.Errorf("expected code INVALID_TSV, got %q", resp.Code)
	}
}

func TestHandlers_HandleLoadFile(t *testing.T) {
	svc, st := newTestService(t)
	router := setupLoaderRouter(svc)

	path := filepath.Join(t.TempDir(), "proteins.tsv")
	if err := os.WriteFile(path, []byte(sampleTSV), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	body, _ := json.Marshal(LoadFileRequest{Path: path})
	req, _ := http.NewRequest("POST", "/v1/load/file", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	count, err := st.CountProteins(context.Background())
	if err != nil {
		t.Fatalf("CountProteins: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 stored proteins, got %d", count)
	}
}

func TestHandlers_HandleLoadFile_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	router := setupLoaderRouter(svc)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing path",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "relative path",
			body:       `{"path": "data/proteins.tsv"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_PATH",
		},
		{
			name:       "missing file",
			body:       `{"path": "/nonexistent/proteins.tsv"}`,
			wantStatus: http.StatusNotFound,
			wantCode:   "FILE_NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("POST", "/v1/load/file", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("expected code %q, got %q", tt.wantCode, resp.Code)
			}
		})
	}
}

package middleware

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/nutriman/internal/model"
)

func TestWriteErrorResponse(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, 404, model.NewFoodItemNotFoundError("4901234567894"))

	if w.Code != 404 {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}

	var body ErrorResponseBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスボディのパースに失敗した: %v", err)
	}
	if body.Code != model.ErrCodeFoodItemNotFound {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeFoodItemNotFound)
	}
	if body.Category != "catalog" {
		t.Errorf("category = %q, want catalog", body.Category)
	}
	if body.Action == "" {
		t.Error("actionは空であってはならない")
	}
}

func TestWriteInternalServerError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalServerError(w)

	if w.Code != 500 {
		t.Errorf("status = %d, want 500", w.Code)
	}

	var body ErrorResponseBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスボディのパースに失敗した: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", body.Code)
	}
}

package models

import (
	"errors"
	"fmt"
)

// ErrDuplicateReturn 同一の返品（同じdedupe key）が既に登録されている場合のエラー
var ErrDuplicateReturn = errors.New("duplicate return detected: this item appears to have already been returned")

// ErrEmptySeries 履歴データが1件もない状態で予測を要求された場合のエラー
var ErrEmptySeries = errors.New("not enough data to generate forecast")

// ErrIndexNotBuilt Rebuildを呼ぶ前にSearchが実行された場合のエラー
var ErrIndexNotBuilt = errors.New("semantic index not built: call Rebuild first")

// ValidationError 必須フィールドの欠落や不正値を表すエラー
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// NewValidationError ValidationErrorを生成するヘルパー
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

package errors

import (
	stderrors "errors"
	"fmt"
)

// ========== 错误码常量定义 ==========

// CodeSuccess 成功码
const (
	CodeSuccess = 200
)

// HTTP层错误码 (400-599)
const (
	CodeInvalidParam       = 400
	CodeUnauthorized       = 401
	CodeForbidden          = 403
	CodeNotFound           = 404
	CodeConflict           = 409
	CodeServerError        = 500
	CodeExternalCall       = 502
	CodePartialProvisioned = 520
)

// ========== 业务错误分类 ==========

// Kind 错误类别
type Kind string

const (
	KindInvalidInput               Kind = "invalid_input"
	KindNotFound                   Kind = "not_found"
	KindConflict                   Kind = "conflict"
	KindExternalCallFailure        Kind = "external_call_failure"
	KindPartialProvisioningFailure Kind = "partial_provisioning_failure"
	KindForbidden                  Kind = "forbidden"
	KindInternal                   Kind = "internal"
)

// 细分原因，供调用方区分同一类别下的不同场景
const (
	ReasonTenantNotFound         = "tenant_not_found"
	ReasonAdministratorNotFound  = "administrator_not_found"
	ReasonAdminAlreadyAssigned   = "admin_already_assigned"
	ReasonTenantDisabled         = "tenant_disabled"
	ReasonTenantHasAdmin         = "tenant_has_admin"
	ReasonTenantHasChildren      = "tenant_has_children"
	ReasonEmailTaken             = "email_taken"
	ReasonDuplicateTenant        = "duplicate_tenant"
	ReasonStaleForm              = "stale_form"
	ReasonVersionMismatch        = "version_mismatch"
	ReasonSecretRotationRequired = "secret_rotation_required"
	ReasonIdentityLocked         = "identity_locked"
	ReasonBadCredentials         = "bad_credentials"
	ReasonOrphanedIdentity       = "orphaned_identity"
	ReasonOutOfScope             = "out_of_scope"
)

// AppError 业务错误
type AppError struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New 创建业务错误
func New(kind Kind, reason, message string) *AppError {
	return &AppError{Kind: kind, Reason: reason, Message: message}
}

// Wrap 包装底层错误
func Wrap(kind Kind, reason, message string, err error) *AppError {
	return &AppError{Kind: kind, Reason: reason, Message: message, Err: err}
}

// InvalidInput 参数错误
func InvalidInput(message string) *AppError {
	return New(KindInvalidInput, "", message)
}

// NotFound 资源不存在
func NotFound(reason, message string) *AppError {
	return New(KindNotFound, reason, message)
}

// Conflict 冲突
func Conflict(reason, message string) *AppError {
	return New(KindConflict, reason, message)
}

// Forbidden 无权操作
func Forbidden(reason, message string) *AppError {
	return New(KindForbidden, reason, message)
}

// External 外部调用失败
func External(message string, err error) *AppError {
	return Wrap(KindExternalCallFailure, "", message, err)
}

// KindOf 返回错误类别，非 AppError 视为内部错误
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// ReasonOf 返回错误细分原因
func ReasonOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Reason
	}
	return ""
}

// Is 判断错误是否属于指定类别
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf 返回面向运营人员的错误信息
func MessageOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return "服务器内部错误"
}

// CodeOf 错误类别映射到响应码
func CodeOf(err error) int {
	switch KindOf(err) {
	case KindInvalidInput:
		return CodeInvalidParam
	case KindNotFound:
		return CodeNotFound
	case KindConflict:
		return CodeConflict
	case KindForbidden:
		return CodeForbidden
	case KindExternalCallFailure:
		return CodeExternalCall
	case KindPartialProvisioningFailure:
		return CodePartialProvisioned
	default:
		return CodeServerError
	}
}

package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// OK represents a successful operation.
var OK = Register(&Errno{
	Code:      0,
	HTTP:      http.StatusOK,
	GRPCCode:  codes.OK,
	MessageEN: "Success",
	MessageAR: "نجاح",
})

var (
	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = Register(New(MakeCode(ServiceCommon, CategoryRequest, 0), http.StatusBadRequest, codes.InvalidArgument, "Bad request", "طلب غير صالح"))

	// ErrInvalidParam indicates an invalid parameter.
	ErrInvalidParam = Register(New(MakeCode(ServiceCommon, CategoryRequest, 1), http.StatusBadRequest, codes.InvalidArgument, "Invalid parameter", "معامل غير صالح"))

	// ErrValidationFailed indicates validation failure.
	ErrValidationFailed = Register(New(MakeCode(ServiceCommon, CategoryRequest, 4), http.StatusBadRequest, codes.InvalidArgument, "Validation failed", "فشل التحقق"))

	// ErrNotFound indicates a missing resource.
	ErrNotFound = Register(New(MakeCode(ServiceCommon, CategoryResource, 0), http.StatusNotFound, codes.NotFound, "Resource not found", "المورد غير موجود"))

	// ErrRateLimited indicates the caller exceeded a rate limit.
	ErrRateLimited = Register(New(MakeCode(ServiceCommon, CategoryRateLimit, 0), http.StatusTooManyRequests, codes.ResourceExhausted, "Too many requests", "طلبات كثيرة جداً"))

	// ErrInternal indicates an unexpected server error.
	ErrInternal = Register(New(MakeCode(ServiceCommon, CategoryInternal, 0), http.StatusInternalServerError, codes.Internal, "Internal server error", "خطأ داخلي في الخادم"))

	// ErrDatabase indicates a database failure.
	ErrDatabase = Register(New(MakeCode(ServiceInfraDB, CategoryDatabase, 0), http.StatusInternalServerError, codes.Internal, "Database error", "خطأ في قاعدة البيانات"))

	// ErrCache indicates a cache failure.
	ErrCache = Register(New(MakeCode(ServiceInfraCache, CategoryCache, 0), http.StatusInternalServerError, codes.Internal, "Cache error", "خطأ في ذاكرة التخزين المؤقت"))

	// ErrUnavailable indicates a downstream dependency is unavailable.
	ErrUnavailable = Register(New(MakeCode(ServiceCommon, CategoryNetwork, 0), http.StatusServiceUnavailable, codes.Unavailable, "Service unavailable", "الخدمة غير متاحة"))

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = Register(New(MakeCode(ServiceCommon, CategoryTimeout, 0), http.StatusGatewayTimeout, codes.DeadlineExceeded, "Operation timed out", "انتهت مهلة العملية"))

	// ErrConfig indicates invalid configuration.
	ErrConfig = Register(New(MakeCode(ServiceCommon, CategoryConfig, 0), http.StatusInternalServerError, codes.FailedPrecondition, "Invalid configuration", "إعدادات غير صالحة"))
)

// Package httputil provides HTTP utilities shared by every route: JSON
// response helpers, the uniform error envelope writer, and request-scoped
// middleware.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteCreated(w, resource)
//	httputil.WriteNoContent(w)
//
// Error responses go through the typed envelope so every failure has the
// same shape:
//
//	httputil.WriteAPIError(w, apierror.Authentication("token expired"))
//
// # Request Helpers
//
// Credential extraction and source address resolution:
//
//	token, err := httputil.BearerToken(r)
//	ip := httputil.ClientIP(r)
//
// # Middleware
//
// Compose the outer middleware stack once per server:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.RecoveryMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//	)(mux)
//
// # Related Packages
//
//   - pkg/apierror: Error envelope types
//   - pkg/middleware: Authentication and authorization pipeline
package httputil

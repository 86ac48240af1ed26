// Package retry 提供带抖动的指数退避重试。
//
// 是否重试由 Policy.Retryable 决定，默认使用 types.IsRetryable，
// 因此只有显式标记为可重试的上游错误（429、5xx、传输失败）会再次尝试。
package retry

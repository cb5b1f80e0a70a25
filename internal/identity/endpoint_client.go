package identity

import (
	"campusadmin/internal/metrics"
	"campusadmin/pkg/config"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ServiceKeyHeader 端点调用密钥请求头
const ServiceKeyHeader = "X-Service-Key"

// endpointRequest 锁定/解锁请求体
type endpointRequest struct {
	UID string `json:"uid"`
}

// endpointResponse 统一返回格式
type endpointResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// EndpointClient 身份锁定/解锁端点客户端
type EndpointClient struct {
	httpClient     *resty.Client
	circuitBreaker *gobreaker.CircuitBreaker
	log            *logrus.Logger
}

// NewEndpointClient 创建端点客户端
func NewEndpointClient(cfg config.IdentityConfig, log *logrus.Logger) *EndpointClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.EndpointBaseURL).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader(ServiceKeyHeader, cfg.ServiceKey)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "identity-endpoint",
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.BreakerFailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			}).Warn("身份端点熔断状态变化")
		},
	})

	return &EndpointClient{
		httpClient:     client,
		circuitBreaker: breaker,
		log:            log,
	}
}

// DisableIdentity 锁定身份
func (c *EndpointClient) DisableIdentity(ctx context.Context, identityID string) error {
	return c.call(ctx, "disable", identityID)
}

// EnableIdentity 解锁身份
func (c *EndpointClient) EnableIdentity(ctx context.Context, identityID string) error {
	return c.call(ctx, "enable", identityID)
}

func (c *EndpointClient) call(ctx context.Context, action, identityID string) error {
	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		var response endpointResponse
		resp, err := c.httpClient.R().
			SetContext(ctx).
			SetBody(endpointRequest{UID: identityID}).
			SetResult(&response).
			SetError(&response).
			Post("/api/v1/identity/" + action)
		if err != nil {
			return nil, fmt.Errorf("调用身份端点失败: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("身份端点返回HTTP %d", resp.StatusCode())
		}
		if response.Code != 200 {
			return nil, fmt.Errorf("身份端点返回错误: %s (code: %d)", response.Message, response.Code)
		}
		return nil, nil
	})

	if err != nil {
		result := metrics.ResultFailed
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = metrics.ResultBreakerOpen
		}
		metrics.IdentityEndpointCalls.WithLabelValues(action, result).Inc()
		c.log.WithError(err).WithFields(logrus.Fields{
			"action":      action,
			"identity_id": identityID,
		}).Error("身份端点调用失败")
		return err
	}

	metrics.IdentityEndpointCalls.WithLabelValues(action, metrics.ResultSuccess).Inc()
	return nil
}

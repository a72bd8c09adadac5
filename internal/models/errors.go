package models

import "errors"

var (
	// ErrConfigMissing 租户策略或指标阈值缺失（降级为 no-op，不中断流水线）
	ErrConfigMissing = errors.New("config missing")
	// ErrInvalidTransition 非法的生命周期调用（如对已解决的报警再次 resolve）
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrAlertNotFound 报警不存在
	ErrAlertNotFound = errors.New("alert not found")
	// ErrConcurrentUpdate 乐观锁版本冲突
	ErrConcurrentUpdate = errors.New("concurrent update")
	// ErrInvalidPolicy 策略文档校验失败
	ErrInvalidPolicy = errors.New("invalid policy")
	// ErrPolicyNotFound 租户没有生效的策略
	ErrPolicyNotFound = errors.New("policy not found")
)

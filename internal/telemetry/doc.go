// Copyright (c) PoolGovernor Authors.
// Licensed under the MIT License.

// Package telemetry 封装 OpenTelemetry SDK 初始化，
// 并提供把调控器 Tick 记录为 span 与 OTel 指标的 TickTracer。
// 当遥测功能禁用时，使用 noop 实现，不连接任何外部服务。
package telemetry

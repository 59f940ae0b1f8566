// Copyright (c) PoolGovernor Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP 接口、
连接池观测值与调控结果三大维度。

# 概述

Collector 通过 promauto.With 注册到调用方传入的 Registerer，服务进程
使用 NewRegistry 创建的独立注册表（附带 Go 运行时与进程指标），
由 Handler 在 metrics 端口导出。指标名形如 namespace_subsystem_name，
连接池维度的指标带 pool 标签。

# 核心类型

  - Collector：指标收集器，实现 governor.Observer，每次 Tick
    刷新对应连接池的全部指标。
  - NewRegistry / Handler：独立注册表与 promhttp 导出。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    按 method/path/status 分组，状态码归类为 2xx/3xx/4xx/5xx。
  - 连接池指标：active/idle/waiting 当前值与窗口均值、
    created/destroyed 累计值、利用率与效率。
  - 调控指标：当前配置、按规则统计的调整次数、Tick 次数与耗时。
  - 采样与快照：采样失败计数、快照读写结果计数。
*/
package metrics

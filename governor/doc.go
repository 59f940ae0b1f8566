// Copyright (c) PoolGovernor Authors.
// Licensed under the MIT License.

/*
包 governor 提供自适应连接池调控器：持续采集连接池的使用遥测，
按固定周期评估统计指标，并以有界的乘法调整输出推荐的池配置。

# 概述

调控器本身从不创建或销毁连接。真实的连接池（协作方）在每次
acquire/release/create/destroy 时调用 UpdateStats 上报观测值，
并周期性读取 GetOptimizedConfig 将 min/max/超时应用到自身。

每个 Tick 依次执行：采样（MetricsRecorder）→ 窗口统计
（StatisticsAggregator）→ 规则调整（AdaptivePolicyEngine），
并在结束时原子替换 PoolConfig 快照。RecommendationReporter
可在任意时刻基于最新统计生成人工建议，不修改任何状态。

# 核心类型

  - Governor：单个连接池的调控器，持有 PoolConfig 与历史窗口。
  - Registry：按名称管理多个 Governor，支持统一运行与停止。
  - MetricsRecorder：并发安全的 gauge/counter 与环形历史缓冲。
  - StatisticsAggregator：尾部窗口平均值、利用率与池效率。
  - AdaptivePolicyEngine：四条阈值规则，增长 1.5×、收缩 0.8×，全部带钳制。
  - RecommendationReporter：无状态建议生成器。

# 配置边界

  - min ≤ max ≤ 100
  - idleTimeout ≥ 10s
  - acquireTimeout ≤ 30s

边界在每一步调整中通过钳制保证，不存在非法配置的错误路径。
*/
package governor

// Copyright (c) PoolGovernor Authors.
// Licensed under the MIT License.

// Package config 提供 poolgovernor 的配置管理功能。
//
// 包含配置加载、调控器与连接池配置、策略参数以及配置文件变更监听。
// 支持从文件和环境变量加载配置，策略参数可在运行时热重载。
package config

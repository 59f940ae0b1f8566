// Copyright (c) PoolGovernor Authors.
// Licensed under the MIT License.

// Package tlsutil 为 API 服务端、health 探测客户端和 Redis 连接提供统一的 TLS 设置
// （TLS 1.2+，仅 AEAD 密码套件），并支持以自定义 CA 校验自签证书。
package tlsutil

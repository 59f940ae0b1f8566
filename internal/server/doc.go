// Copyright (c) PoolGovernor Authors.
// Licensed under the MIT License.

/*
包 server 管理 HTTP/HTTPS 服务器的生命周期，poolgovernor 用它
分别运行 API 服务与 Prometheus metrics 服务。

# 核心类型

  - Manager：封装 http.Server 与 net.Listener，提供
    Start/Run/Shutdown。Run 适合放进 errgroup，ctx 取消后优雅关闭。
  - Config：监听地址、读写与空闲超时、请求头上限、关闭超时，
    以及可选的 TLSConfig（由 tlsutil.ServerTLSConfig 加载证书）。

Errors 返回异步服务错误通道，ListenAddr 返回实际监听地址。
*/
package server

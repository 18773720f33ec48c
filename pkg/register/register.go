package register

import "context"

// 注册到注册中心的实例信息
type Instance struct {
	ID       string            `json:"id"`   // name-addr
	Name     string            `json:"name"` // eg: "settlement-service"
	Addr     string            `json:"addr"` // ip:port
	MetaData map[string]string `json:"metadata,omitempty"`
}

type Register interface {
	Register(ctx context.Context, ins *Instance) error
	UnRegister(ctx context.Context, ins *Instance) error
}

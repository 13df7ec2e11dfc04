package ledger

import "errors"

// ErrInvalidOperation FIFO 匹配仅对 SELL 记录定义，其他方向的调用被同步拒绝
var ErrInvalidOperation = errors.New("ledger: matching is only defined for SELL transactions")

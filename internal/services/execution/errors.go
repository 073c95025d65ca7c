package execution

import "errors"

var (
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrPositionNotFound   = errors.New("position not found")
	ErrInvalidLeverage    = errors.New("invalid leverage")
	ErrInvalidSize        = errors.New("invalid position size")
	ErrInvalidDirection   = errors.New("invalid direction")
	ErrInvalidStop        = errors.New("invalid stop loss")
	ErrInvalidTakeProfit  = errors.New("invalid take profit")
	ErrPositionTooLarge   = errors.New("position exceeds max position size")
	ErrTradingBlocked     = errors.New("trading blocked")
	ErrNoPrice            = errors.New("no market price")
	ErrPositionsOpen      = errors.New("positions still open")
	ErrInvariant          = errors.New("account invariant violated")
)

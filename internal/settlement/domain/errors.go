package domain

import (
	"errors"

	"lunorise.com/pkg/xerr"
)

var (
	ErrDepositNotFound     = errors.New("deposit not found")
	ErrDepositTerminal     = errors.New("deposit already in terminal state")
	ErrDepositNotConfirmed = errors.New("deposit not confirmed")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrPlanNotFound        = errors.New("plan not found")
	ErrProfileNotFound     = errors.New("profile not found")
	ErrIncomeNotFound      = errors.New("income event not found")
	ErrWebhookNotFound     = errors.New("webhook event not found")
	ErrCryptoNotFound      = errors.New("crypto deposit not found")
	ErrCryptoReviewed      = errors.New("crypto deposit already reviewed")
	ErrDuplicate           = errors.New("duplicate record")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrMissingOrderNo      = errors.New("missing mch_order_no")
	ErrInvalidTxHash       = errors.New("invalid tx hash")
	ErrInvalidAmount       = errors.New("invalid amount")
)

// Coded 给领域错误挂上 xerr 错误码，保留原错误链；熔断器和 HTTP 层都按码判断
func Coded(err error) error {
	if err == nil {
		return nil
	}
	var ce *xerr.CodeError
	if errors.As(err, &ce) {
		return err
	}
	switch {
	case errors.Is(err, ErrDepositNotFound), errors.Is(err, ErrPlanNotFound),
		errors.Is(err, ErrProfileNotFound), errors.Is(err, ErrIncomeNotFound),
		errors.Is(err, ErrWebhookNotFound), errors.Is(err, ErrCryptoNotFound):
		return xerr.Wrap(err, xerr.RecordNotFound, err.Error())
	case errors.Is(err, ErrDepositTerminal), errors.Is(err, ErrDepositNotConfirmed),
		errors.Is(err, ErrCryptoReviewed), errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrWalletNotFound):
		return xerr.Wrap(err, xerr.Conflict, err.Error())
	case errors.Is(err, ErrInvalidSignature):
		return xerr.Wrap(err, xerr.Unauthorized, err.Error())
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrMissingOrderNo),
		errors.Is(err, ErrInvalidTxHash), errors.Is(err, ErrInvalidAmount):
		return xerr.Wrap(err, xerr.RequestParamsError, err.Error())
	}
	return err
}

package chain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/ethereum/go-ethereum/rpc"
)

// rejection patterns reported by geth-compatible nodes, most specific first.
var rejectionPatterns = []struct {
	substr string
	reason string
}{
	{"nonce too low", apperrors.ReasonSequenceMismatch},
	{"nonce too high", apperrors.ReasonSequenceMismatch},
	{"replacement transaction underpriced", apperrors.ReasonSequenceMismatch},
	{"already known", apperrors.ReasonSequenceMismatch},
	{"insufficient funds", apperrors.ReasonInsufficientFunds},
	{"execution reverted", apperrors.ReasonSimulationFailed},
	{"gas required exceeds allowance", apperrors.ReasonSimulationFailed},
	{"intrinsic gas too low", apperrors.ReasonSimulationFailed},
	{"transaction underpriced", apperrors.ReasonUnderpriced},
	{"max fee per gas less than block base fee", apperrors.ReasonUnderpriced},
	{"fee cap less than block base fee", apperrors.ReasonUnderpriced},
}

// classify maps a node or transport error from op onto the error taxonomy.
// Node responses that name a known rejection become SUBMISSION_REJECTED;
// anything that never reached a node answer is CHAIN_UNAVAILABLE.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	msg := strings.ToLower(err.Error())
	for _, p := range rejectionPatterns {
		if strings.Contains(msg, p.substr) {
			return apperrors.NewSubmissionRejected(p.reason, fmt.Sprintf("%s: %s", op, err.Error()), err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperrors.NewChainUnavailable(op+" timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperrors.NewChainUnavailable(op+" failed", err)
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return apperrors.NewSubmissionRejected(apperrors.ReasonRejected, fmt.Sprintf("%s: %s", op, err.Error()), err)
	}
	return apperrors.NewChainUnavailable(op+" failed", err)
}

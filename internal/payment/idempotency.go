package payment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// maxRecharges bounds how many refunded charges a gateway steps past for one
// idempotency key.
const maxRecharges = 8

type Scope string

const (
	ScopeCategoryAdd  Scope = "category_add"
	ScopeRenewal      Scope = "renewal"
	ScopeReactivation Scope = "reactivation"
)

// IdempotencyKey derives a stable key from a scope and its parameters, so a
// retried request maps onto the charge it already made.
func IdempotencyKey(scope Scope, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(scope))
	for _, k := range keys {
		b.WriteString(fmt.Sprintf(":%s=%v", k, params[k]))
	}

	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s-%s", scope, hex.EncodeToString(hash[:12]))
}

// attemptKey is the provider key for the n-th collection under key. Attempt 0
// uses key itself.
func attemptKey(key string, n int) string {
	if n == 0 {
		return key
	}
	return key + "#" + strconv.Itoa(n)
}

func refundKey(key string) string {
	return "refund:" + key
}

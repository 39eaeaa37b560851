package stream

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/sawpanic/spreadrun/internal/models"
)

// ResultHash fingerprints what subscribers care about in a result: the
// spread count and the top spread's strikes and premium.
func ResultHash(r *models.ScanResult) string {
	content := fmt.Sprintf("%s|%d", r.Symbol, len(r.Spreads))
	if top := r.Top(); top != nil {
		content += fmt.Sprintf("|%.4f|%.4f|%.4f", top.Long.Strike, top.Short.Strike, top.NetDebit)
	}
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

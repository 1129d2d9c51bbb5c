package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// IPWhitelist only lets through clients whose IP is listed. Entries may be
// single addresses or CIDR ranges. An empty list allows everyone.
func IPWhitelist(entries []string) gin.HandlerFunc {
	exact := make(map[string]bool)
	var nets []*net.IPNet
	for _, e := range entries {
		if strings.Contains(e, "/") {
			if _, n, err := net.ParseCIDR(e); err == nil {
				nets = append(nets, n)
			}
			continue
		}
		exact[e] = true
	}
	allowed := func(ip string) bool {
		if exact[ip] {
			return true
		}
		parsed := net.ParseIP(ip)
		for _, n := range nets {
			if parsed != nil && n.Contains(parsed) {
				return true
			}
		}
		return false
	}

	return func(c *gin.Context) {
		if len(exact) == 0 && len(nets) == 0 {
			c.Next()
			return
		}
		if !allowed(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied", "code": "forbidden"})
			return
		}
		c.Next()
	}
}

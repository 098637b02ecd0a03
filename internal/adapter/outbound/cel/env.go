package cel

import (
	"net"
	"path/filepath"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/throttle-gate/throttlegate/internal/domain/route"
)

// NewRequestEnvironment creates a CEL environment for routing rule
// conditions. It includes:
//   - Request variables: method, path, host, client_key
//   - Custom functions: glob, ip_in_cidr, host_matches
func NewRequestEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		// Standard extensions
		ext.Strings(),
		ext.Sets(),

		cel.Variable("method", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("host", cel.StringType),
		cel.Variable("client_key", cel.StringType),

		// glob: glob pattern matching.
		// Usage: glob("/api/v*/users", path)
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, value ref.Val) ref.Val {
					p := pattern.Value().(string)
					v := value.Value().(string)
					matched, _ := filepath.Match(p, v)
					return types.Bool(matched)
				}),
			),
		),

		// ip_in_cidr: checks if an IP is within a CIDR range. Client
		// keys are usually IPs, so this gives rules subnet matching.
		// Usage: ip_in_cidr(client_key, "10.0.0.0/8")
		cel.Function("ip_in_cidr",
			cel.Overload("ip_in_cidr_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(ipVal, cidrVal ref.Val) ref.Val {
					ipStr := ipVal.Value().(string)
					cidrStr := cidrVal.Value().(string)

					ip := net.ParseIP(ipStr)
					if ip == nil {
						return types.Bool(false)
					}

					_, network, err := net.ParseCIDR(cidrStr)
					if err != nil {
						return types.Bool(false)
					}

					return types.Bool(network.Contains(ip))
				}),
			),
		),

		// host_matches: glob match against the request host.
		// Usage: host_matches(host, "*.internal.example.com")
		cel.Function("host_matches",
			cel.Overload("host_matches_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(hostVal, patternVal ref.Val) ref.Val {
					h := hostVal.Value().(string)
					pattern := patternVal.Value().(string)
					matched, _ := filepath.Match(pattern, h)
					return types.Bool(matched)
				}),
			),
		),
	)
}

// BuildActivation creates a CEL activation map from a RequestContext.
func BuildActivation(rc route.RequestContext) map[string]any {
	return map[string]any{
		"method":     rc.Method,
		"path":       rc.Path,
		"host":       rc.Host,
		"client_key": rc.ClientKey,
	}
}

package router

var sensitivityRank = map[string]int{
	"public":       0,
	"internal":     1,
	"confidential": 2,
	"restricted":   3,
}

func rankSensitivity(level string) int {
	if r, ok := sensitivityRank[level]; ok {
		return r
	}
	return 3
}

// PolicyRule constrains which candidates may be routed to, by capability
// tag, trust level, and maximum data sensitivity.
type PolicyRule struct {
	AllowedCapabilityTags []string
	DeniedCapabilityTags  []string
	RequiredTrustLevels   []string
	MaxDataSensitivity    string // public|internal|confidential|restricted
}

// DefaultPolicyRule permits any candidate up to confidential sensitivity,
// matching the zero-configuration default.
func DefaultPolicyRule() PolicyRule {
	return PolicyRule{MaxDataSensitivity: "confidential"}
}

func containsAny(haystack, needles []string) bool {
	set := make(map[string]struct{}, len(haystack))
	for _, h := range haystack {
		set[h] = struct{}{}
	}
	for _, n := range needles {
		if _, ok := set[n]; ok {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Permits reports whether candidate may serve a request with the given
// requested capability tags, data sensitivity, and trust level.
func (p PolicyRule) Permits(candidate Candidate, requestedTags []string, sensitivity, trust string) bool {
	if len(p.AllowedCapabilityTags) > 0 && !containsAny(requestedTags, p.AllowedCapabilityTags) {
		return false
	}
	if containsAny(candidate.CapabilityTags, p.DeniedCapabilityTags) {
		return false
	}
	if len(p.RequiredTrustLevels) > 0 && !contains(p.RequiredTrustLevels, trust) {
		return false
	}
	maxSensitivity := p.MaxDataSensitivity
	if maxSensitivity == "" {
		maxSensitivity = "confidential"
	}
	if rankSensitivity(sensitivity) > rankSensitivity(maxSensitivity) {
		return false
	}
	return true
}

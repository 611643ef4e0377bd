package agentstream

// UsageMeter filters token-usage reports so the emitted TotalTokens never
// decreases and identical reports are not repeated.
type UsageMeter struct {
	last    TokenUsage
	emitted bool
}

// Observe returns u and true when it should be emitted.
func (m *UsageMeter) Observe(u TokenUsage) (TokenUsage, bool) {
	if u.TotalTokens < m.last.TotalTokens {
		return u, false
	}
	if m.emitted && u == m.last {
		return u, false
	}
	if u.ContextWindow == 0 {
		u.ContextWindow = m.last.ContextWindow
	}
	m.last = u
	m.emitted = true
	return u, true
}

// Last returns the most recently emitted usage.
func (m *UsageMeter) Last() TokenUsage {
	return m.last
}

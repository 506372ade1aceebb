package pop3

// Capabilities builds the CAPA response body (component C10, RFC 2449):
// the advertised list changes with TLS state, listener mode, adapter
// support, and whether the server offers the read-only extension, exactly
// per spec §4.10.
func (s *Session) Capabilities() []string {
	caps := []string{"TOP", "UIDL", "RESP-CODES", "AUTH-RESP-CODE", "PIPELINING", "UTF8"}

	plaintextOK := s.tlsState == TLSStateActive || s.allowPlaintext

	if plaintextOK {
		caps = append([]string{"USER"}, caps...)
	}

	mechs := []string{"PLAIN"}
	if s.adapter != nil {
		mechs = append(mechs, s.adapter.SASLMechanisms()...)
	}
	if plaintextOK {
		caps = append(caps, "SASL "+joinMechs(mechs))
	}

	if s.adapter != nil && s.adapter.SupportsAPOP() {
		caps = append(caps, "LOGIN-DELAY 0")
	}

	if s.CanSTLS() {
		caps = append(caps, "STLS")
	}

	if s.allowReadOnlyMode {
		caps = append(caps, "X-POP3SF-READ-ONLY")
	}

	caps = append(caps, "IMPLEMENTATION POP3SF")

	return caps
}

func joinMechs(mechs []string) string {
	out := mechs[0]
	for _, m := range mechs[1:] {
		out += " " + m
	}
	return out
}

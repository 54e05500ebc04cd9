package fetchextra

// Debug logging helpers. The sink is no-op by default; WithDebug or
// WithLogger turns it on.

func (c *Client) logAttempt(st *State, att *attempt) {
	c.logger.Debug().
		Str("id", st.ID).
		Int("attempt", st.Attempt).
		Str("method", att.method).
		Str("url", att.resource).
		Msg("fetch attempt")
}

func (c *Client) logSettled(st *State, stats *TransferStats, err error) {
	ev := c.logger.Debug().
		Str("id", st.ID).
		Int("attempts", stats.Attempts).
		Int64("bytes", stats.Size).
		Dur("duration", stats.Duration).
		Float64("speed_bps", stats.Speed)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("fetch settled")
}

package player

// Status is a snapshot of player properties. Position and Duration are nil
// when mpv has nothing loaded.
type Status struct {
	Connected  bool     `json:"connected"`
	Paused     bool     `json:"paused"`
	Position   *float64 `json:"position"`
	Duration   *float64 `json:"duration"`
	Volume     float64  `json:"volume"`
	Speed      float64  `json:"speed"`
	MediaTitle string   `json:"media_title"`
}

// Status composes several property reads. An unusable channel yields a
// zero Status with Connected=false.
func (c *Client) Status() Status {
	paused, ok := getTyped(c, "pause", false)
	if !ok && !c.Connected() {
		return Status{}
	}

	st := Status{
		Connected:  true,
		Paused:     paused,
		Volume:     c.GetFloat("volume", 100),
		Speed:      c.GetFloat("speed", 1),
		MediaTitle: c.GetString("media-title", ""),
	}
	if pos, ok := getTyped(c, "time-pos", 0.0); ok {
		st.Position = &pos
	}
	if dur, ok := getTyped(c, "duration", 0.0); ok {
		st.Duration = &dur
	}
	if !c.Connected() {
		return Status{}
	}
	return st
}

package playlist

// SelectSource returns the rendition with the highest bandwidth. Ties go to
// the rendition listed first.
func SelectSource(renditions []SourceRendition) (SourceRendition, error) {
	if len(renditions) == 0 {
		return SourceRendition{}, ErrEmptyInput
	}
	best := renditions[0]
	for _, r := range renditions[1:] {
		if r.Bandwidth > best.Bandwidth {
			best = r
		}
	}
	return best, nil
}

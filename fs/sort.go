package fs

// AbsolutePaths sorts lexicographically by string form.
type AbsolutePaths []AbsolutePath

func (s AbsolutePaths) Len() int           { return len(s) }
func (s AbsolutePaths) Less(i, j int) bool { return s[i].String() < s[j].String() }
func (s AbsolutePaths) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

func (s AbsolutePaths) Strings() []string {
	ss := make([]string, len(s))
	for i, p := range s {
		ss[i] = p.String()
	}
	return ss
}

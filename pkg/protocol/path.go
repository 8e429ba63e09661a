package protocol

// ===== HOP PATH HELPERS =====

// AppendHop returns path with hop appended, or path unchanged and false
// when the path is already at MaxPathLen.
func AppendHop(path []byte, hop byte) ([]byte, bool) {
	if len(path) >= MaxPathLen {
		return path, false
	}
	out := make([]byte, len(path)+1)
	copy(out, path)
	out[len(path)] = hop
	return out, true
}

// ContainsHop checks if hop appears in path
func ContainsHop(path []byte, hop byte) bool {
	for _, h := range path {
		if h == hop {
			return true
		}
	}
	return false
}

// ReversePath returns a reversed copy of path
func ReversePath(path []byte) []byte {
	out := make([]byte, len(path))
	for i, h := range path {
		out[len(path)-1-i] = h
	}
	return out
}

// RouteCandidate derives outbound intermediate hops from an inbound
// packet path. The leading sender hop and, when present, the trailing
// local hop are stripped; the remainder is reversed into the order this
// node would transmit them. Returns nil when the path does not start
// with the sender.
func RouteCandidate(path []byte, senderHop, localHop byte) []byte {
	if len(path) == 0 || path[0] != senderHop {
		return nil
	}
	mid := path[1:]
	if n := len(mid); n > 0 && mid[n-1] == localHop {
		mid = mid[:n-1]
	}
	return ReversePath(mid)
}

// DirectPath builds the full path for a direct packet:
// [local][intermediates...][dest]
func DirectPath(localHop byte, intermediates []byte, destHop byte) []byte {
	out := make([]byte, 0, len(intermediates)+2)
	out = append(out, localHop)
	out = append(out, intermediates...)
	return append(out, destHop)
}

package tgui

import "strconv"

// NextPage returns the "/cmd <page+1>" hint when a page came back full,
// which is the only signal a newest-first log gives that more exists.
func NextPage(command string, page, perPage, got int) (string, bool) {
	if perPage <= 0 || got < perPage {
		return "", false
	}
	return command + " " + strconv.Itoa(page+1), true
}

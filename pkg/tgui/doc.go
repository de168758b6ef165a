// Package tgui builds Telegram HTML replies.
//
// Everything that takes a plain string escapes it; values of type H are
// already safe for ParseMode="HTML".
package tgui

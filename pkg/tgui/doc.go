// Package tgui provides small Telegram UI helpers: HTML escaping, a text
// builder, inline keyboards, callback data and list paging.
//
// Everything that produces message text returns HTML safe for
// ParseMode="HTML".
package tgui

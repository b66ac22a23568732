// Package mqtt mirrors delivered notifications to an MQTT broker so home
// automation can react to reminders and briefings (a lamp that flashes
// for a reminder, a speaker that plays the morning briefing).
//
// The mirror uses Eclipse Paho v2's [autopaho] package for connection
// management with automatic reconnection. On every (re-)connect it
// publishes a retained "online" birth message to the availability
// topic; a will message moves it to "offline" on unexpected disconnects.
// Each notification is published as JSON under <topic>/<kind>, and a
// retained per-day tally is kept under <topic>/today.
package mqtt

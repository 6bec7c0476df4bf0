// Package telegram connects scanbot to the Telegram Bot API.
//
// Inbound updates arrive on a webhook (POST /telegram). Each update carrying
// a bot command is deduplicated by update_id, filtered by chat, and handed to
// the command handler; the handler's reply is sent straight back. The Bot is
// also the outbound sink for scan notices addressed to "telegram:<chat id>".
//
// RegisterWebhook points Telegram at <public url>/telegram, with the secret
// token Telegram will echo in X-Telegram-Bot-Api-Secret-Token.
package telegram

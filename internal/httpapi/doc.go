// Package httpapi is the gin facade azauthd serves. Handlers translate JSON
// bodies into engine calls and engine errors into status codes; they hold no
// auth logic of their own.
package httpapi

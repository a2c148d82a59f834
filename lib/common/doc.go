// Package common holds the pieces shared by all commands: the dragonboat logger
// factory used by every package of the module and the store and server
// configuration structs.
package common

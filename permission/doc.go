// Package permission maps named permissions to bits and roles to masks.
//
// A [Registry] assigns each permission a stable bit in a 64-bit [Mask]. It can
// reserve the highest bit for a root permission that implies every other one.
// A [RoleManager] composes role masks from permission names. Both are built at
// startup, frozen, and then only read.
//
// The package does no I/O and does not import azauth, so role names are plain
// strings here.
package permission

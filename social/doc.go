// Package social implements friend relationships between accounts and the
// visibility rules built on them.
//
// A relationship is a directed edge (subject → object) with a status of
// pending, approved or rejected. Two approved edges, one per direction, make a
// friendship. Lifecycle owns every write to edges, Guard keeps the reciprocal
// pair consistent, Evaluator answers read/write access questions and Roster
// lists an account's friends and requests.
package social

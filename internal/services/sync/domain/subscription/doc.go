// Package subscription decides and folds feed subscription facts for one user.
package subscription

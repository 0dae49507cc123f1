// Package selfservice provides user self registration on top of a SCIM 2.0
// identity server.
//
// Registration:
//   - RegistrationForm whitelists the configured fields, validates them and
//     maps them onto a scim.User. Extension fields are addressed as
//     "<urn>:<field>".
//   - RegisterUserHandler stores the user inactive, attaches a OneTimeToken
//     to the self administration extension and mails an activation link
//     rendered by EmailRenderer.
//   - ActivateUserHandler compares the token from the link with the stored
//     one. Expired tokens are removed and the user stays inactive.
//
// Scavenging:
//   - ScavengerTask periodically removes expired one time tokens, and any
//     companion fields, from all users. Config.NewScavengers returns one task
//     per token kind (activation, one time password, email confirmation).
//
// Activity sinks:
//   - ActivitySink receives registration, activation and purge events. Sinks
//     run best effort (errors are logged). repository.ActivityStore persists
//     them with Bun.
//
// HTTP:
//   - RegisterSelfServiceRoutes mounts the registration form and the
//     activation endpoint on a go-router router. The users.signup feature
//     gate hides the form when disabled.
package selfservice

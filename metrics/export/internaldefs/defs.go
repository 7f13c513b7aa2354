package internaldefs

import (
	"github.com/azora-os/azauth"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   azauth.MetricID
	Name string
	Help string
}

// Counters lists every exported counter in a fixed order.
var Counters = []CounterDef{
	{azauth.MetricLoginSuccess, "azauth_login_success_total", "Successful logins."},
	{azauth.MetricLoginFailure, "azauth_login_failure_total", "Failed logins."},
	{azauth.MetricLoginRateLimited, "azauth_login_rate_limited_total", "Logins rejected by the throttle."},
	{azauth.MetricAccountLocked, "azauth_account_locked_total", "Accounts locked after repeated failures."},
	{azauth.MetricMFARequired, "azauth_mfa_required_total", "Logins stopped for a second factor."},
	{azauth.MetricMFASuccess, "azauth_mfa_success_total", "Accepted TOTP codes."},
	{azauth.MetricMFAFailure, "azauth_mfa_failure_total", "Rejected TOTP codes."},
	{azauth.MetricMFAReplay, "azauth_mfa_replay_total", "TOTP codes rejected as replays."},
	{azauth.MetricBackupCodeUsed, "azauth_backup_code_used_total", "Consumed backup codes."},
	{azauth.MetricBackupCodeFailed, "azauth_backup_code_failed_total", "Rejected backup codes."},
	{azauth.MetricBackupCodesGenerated, "azauth_backup_codes_generated_total", "Backup code set generations."},
	{azauth.MetricRefreshSuccess, "azauth_refresh_success_total", "Successful refreshes."},
	{azauth.MetricRefreshFailure, "azauth_refresh_failure_total", "Failed refreshes."},
	{azauth.MetricRefreshReuseDetected, "azauth_refresh_reuse_detected_total", "Refresh tokens presented after rotation."},
	{azauth.MetricRefreshRateLimited, "azauth_refresh_rate_limited_total", "Refreshes rejected by the throttle."},
	{azauth.MetricSessionCreated, "azauth_session_created_total", "Created sessions."},
	{azauth.MetricSessionEvicted, "azauth_session_evicted_total", "Sessions evicted by the per-user cap."},
	{azauth.MetricSessionInvalidated, "azauth_session_invalidated_total", "Sessions removed by logout, reset or deactivation."},
	{azauth.MetricLogout, "azauth_logout_total", "Single-session logouts."},
	{azauth.MetricLogoutAll, "azauth_logout_all_total", "Logout-all operations."},
	{azauth.MetricTokenRevoked, "azauth_token_revoked_total", "Access tokens added to the denylist."},
	{azauth.MetricValidateRejected, "azauth_validate_rejected_total", "Access tokens rejected by Validate."},
	{azauth.MetricRegisterSuccess, "azauth_register_success_total", "Registrations."},
	{azauth.MetricRegisterDuplicate, "azauth_register_duplicate_total", "Registrations rejected as duplicates."},
	{azauth.MetricPasswordChange, "azauth_password_change_total", "Password changes."},
	{azauth.MetricPasswordResetRequest, "azauth_password_reset_request_total", "Password reset requests."},
	{azauth.MetricPasswordResetSuccess, "azauth_password_reset_success_total", "Completed password resets."},
	{azauth.MetricPasswordResetFailure, "azauth_password_reset_failure_total", "Rejected password reset tokens."},
	{azauth.MetricEmailVerificationRequest, "azauth_email_verification_request_total", "Email verification requests."},
	{azauth.MetricEmailVerificationSuccess, "azauth_email_verification_success_total", "Confirmed email addresses."},
	{azauth.MetricEmailVerificationFailure, "azauth_email_verification_failure_total", "Rejected email verification tokens."},
	{azauth.MetricEmailDispatchFailure, "azauth_email_dispatch_failure_total", "Emails the sender failed to deliver."},
}

const (
	ValidateLatencyName = "azauth_validate_latency_seconds"
	ValidateLatencyHelp = "Access token validation latency."

	AuditDroppedName = "azauth_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."
)

// UpperBounds returns the finite bucket bounds in seconds.
func UpperBounds() []float64 {
	out := make([]float64, len(azauth.HistogramBounds))
	for i, b := range azauth.HistogramBounds {
		out[i] = b.Seconds()
	}
	return out
}

// Cumulative turns the engine's per-bucket counts into running totals.
// Missing trailing buckets count as zero; the last element is the total.
func Cumulative(raw []uint64) []uint64 {
	out := make([]uint64, len(azauth.HistogramBounds)+1)
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}

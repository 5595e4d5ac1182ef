package models

// Context key under which the auth gate stores the resolved user.
const UserContextKey = "authUser"
